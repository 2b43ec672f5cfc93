// Package migrations は監査DBのスキーマ定義を埋め込む。
// ファイル名は {version}_{name}.sql 形式で、1ファイル1ステートメントとする。
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
