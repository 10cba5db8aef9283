package leaderboard

import (
	"context"
	"sort"
	"sync"
)

type memEntry struct {
	score int64
	// seq — порядковый номер последнего изменения: при равном счёте
	// выше тот, кто достиг его раньше.
	seq uint64
}

// MemoryBoard — рейтинг в памяти процесса.
type MemoryBoard struct {
	mu     sync.RWMutex
	worlds map[string]map[string]*memEntry
	seq    uint64
}

func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{worlds: make(map[string]map[string]*memEntry)}
}

func (b *MemoryBoard) Increment(ctx context.Context, worldID, username string, by int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	users, ok := b.worlds[worldID]
	if !ok {
		users = make(map[string]*memEntry)
		b.worlds[worldID] = users
	}
	e, ok := users[username]
	if !ok {
		e = &memEntry{}
		users[username] = e
	}
	b.seq++
	e.score += by
	e.seq = b.seq
	return nil
}

func (b *MemoryBoard) TopK(ctx context.Context, worldID string, k int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Entry{}, nil
	}

	b.mu.RLock()
	type row struct {
		name string
		memEntry
	}
	rows := make([]row, 0, len(b.worlds[worldID]))
	for name, e := range b.worlds[worldID] {
		rows = append(rows, row{name: name, memEntry: *e})
	}
	b.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].seq < rows[j].seq
	})

	if len(rows) > k {
		rows = rows[:k]
	}
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{Username: r.name, Score: r.score}
	}
	return out, nil
}

func (b *MemoryBoard) Score(ctx context.Context, worldID, username string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if e, ok := b.worlds[worldID][username]; ok {
		return e.score, nil
	}
	return 0, nil
}
