package inbox

import "embed"

// migrationsFS は受信箱サービスのマイグレーションSQLファイル。
//
//go:embed migrations/*.up.sql
var migrationsFS embed.FS
