package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate は監査ストアのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandSeed は監査ストアに確認用のログイン履歴を1件書き込むことを示す。
	CommandSeed Command = "seed"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "seed":
		return CommandSeed
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
