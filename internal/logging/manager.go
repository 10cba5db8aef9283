package logging

import (
	"errors"
	"fmt"
	"sync"
)

// Компоненты сервера; у каждого свой префикс и свой файл журнала.
const (
	ComponentPlacement = "placement"
	ComponentBroadcast = "broadcast"
	ComponentNetwork   = "network"
	ComponentStorage   = "storage"
	ComponentSession   = "session"
)

// LoggerManager держит по одному логгеру на компонент.
type LoggerManager struct {
	mu      sync.Mutex
	loggers map[string]*Logger
}

var globalManager = &LoggerManager{loggers: make(map[string]*Logger)}

// GetLoggerManager возвращает менеджер процесса.
func GetLoggerManager() *LoggerManager {
	return globalManager
}

// Component возвращает логгер компонента, создавая его при первом обращении.
// Если файл журнала открыть не удалось, компонент пишет в общий логгер.
func (lm *LoggerManager) Component(name string) *Logger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if l, ok := lm.loggers[name]; ok {
		return l
	}
	l, err := NewLogger(name)
	if err != nil {
		current().Warn("⚠️  Logger for %s unavailable, using default: %v", name, err)
		return current()
	}
	lm.loggers[name] = l
	return l
}

// CloseAll закрывает файлы журналов; следующий Component откроет новые.
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for name, l := range lm.loggers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s logger: %w", name, err))
		}
	}
	lm.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

func GetPlacementLogger() *Logger { return globalManager.Component(ComponentPlacement) }

func GetBroadcastLogger() *Logger { return globalManager.Component(ComponentBroadcast) }

func GetNetworkLogger() *Logger { return globalManager.Component(ComponentNetwork) }

func GetStorageLogger() *Logger { return globalManager.Component(ComponentStorage) }

func GetSessionLogger() *Logger { return globalManager.Component(ComponentSession) }
