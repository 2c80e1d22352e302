// Package base предоставляет общие части адаптеров на database/sql.
//
// # Основные компоненты
//
// Dialect - настраиваемая реализация adapters.Dialect. Каждый драйвер
// заполняет поля (кавычки, плейсхолдеры, маппинг типов, identity-колонка),
// а построители SQL из пакета adapters работают только через интерфейс.
//
// DB - обертка над *sql.DB:
//   - Exec/Query с нормализацией значений (Query возвращает dataset.Dataset)
//   - BeginTx с оберткой транзакции, реализующей adapters.Tx
//   - ProbeTableSchema - структура таблицы по метаданным пустой выборки
//
// ScanRows - чтение *sql.Rows в набор данных; используется и в транзакциях.
//
// PostgreSQL работает через pgxpool и этот пакет не использует, кроме Dialect.
package base
