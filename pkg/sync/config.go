package sync

import "fmt"

// DefaultStatePath - файл состояния по умолчанию
const DefaultStatePath = "./datasync_state.json"

// Config содержит настройки инкрементальной синхронизации
type Config struct {
	// Path - путь к файлу состояния. Пустой путь - состояние только в памяти.
	Path string `yaml:"path"`

	// SkipUnchanged - пропускать сверку и запись, если отпечаток
	// очищенного набора совпал с отпечатком прошлого успешного запуска
	SkipUnchanged bool `yaml:"skip_unchanged"`

	// AutoSave - сохранять файл после каждого изменения
	AutoSave bool `yaml:"auto_save"`
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if c.SkipUnchanged && c.Path == "" && c.AutoSave {
		return fmt.Errorf("state.path is required when auto_save is enabled")
	}
	return nil
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Path:     DefaultStatePath,
		AutoSave: true,
	}
}
