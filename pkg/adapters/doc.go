/*
Package adapters - общий слой доступа к СУБД для записи и интроспекции.

Сам пакет содержит интерфейсы Adapter, Tx и Dialect, реестр драйверов
и построители SQL (BuildCreateTable, BuildInsertBatch, BuildUpdate,
BuildSelect, ...). Реализации лежат в подпакетах sqlite, postgres, mysql
и mssql и регистрируются из init(), поэтому достаточно пустого импорта.

Ошибки драйверов переводятся в syncerr.Kind по кодам (ClassifyError):
слой записи отличает отсутствующую таблицу, нарушение уникальности
и временный сбой, не разбирая текст сообщений.

	import (
	    "github.com/ruslano69/datasync/pkg/adapters"
	    _ "github.com/ruslano69/datasync/pkg/adapters/postgres"
	)

	a, err := adapters.New(ctx, adapters.Config{Type: "postgres", DSN: dsn})
	if err != nil {
	    return err
	}
	defer a.Close(ctx)
*/
package adapters
