package app

import (
	"fmt"
	"io"
)

// Command はアプリケーションのサブコマンドを表す。
type Command string

const (
	// CommandServe はダッシュボードサーバーを起動する。
	CommandServe Command = "serve"
	// CommandLogin はメールアドレスとパスワードでログインし、トークンを状態ファイルに保存する。
	CommandLogin Command = "login"
	// CommandLogout は保存済みトークンを削除する。通信は行わない。
	CommandLogout Command = "logout"
	// CommandWhoami は保存済みトークンを検証してユーザーを表示する。
	CommandWhoami Command = "whoami"
	// CommandInsights はインサイトの集計値を表示する。
	CommandInsights Command = "insights"
	// CommandDigest はダイジェストを生成して表示または配信する。
	CommandDigest Command = "digest"
	// CommandSchedule はダイジェストの定期配信ジョブを起動する。
	CommandSchedule Command = "schedule"
	// CommandIngest はソースのフィードまたはサンプルファイルからレビューを取り込む。
	CommandIngest Command = "ingest"
	// CommandMigrate はストレージのマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

var commands = []Command{
	CommandServe,
	CommandLogin,
	CommandLogout,
	CommandWhoami,
	CommandInsights,
	CommandDigest,
	CommandSchedule,
	CommandIngest,
	CommandMigrate,
	CommandHealthcheck,
	CommandHelp,
}

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を取り出す。
// 引数が空の場合はCommandServe。サポート外のコマンドはエラーを返す。
func ParseCommand(args []string) (Command, []string, error) {
	if len(args) == 0 {
		return CommandServe, nil, nil
	}
	switch args[0] {
	case "-h", "--help":
		return CommandHelp, nil, nil
	}
	for _, c := range commands {
		if string(c) == args[0] {
			return c, args[1:], nil
		}
	}
	return "", nil, fmt.Errorf("unknown command %q", args[0])
}

const usage = `Usage: customervoice <command> [flags]

Commands:
  serve        start the dashboard server (default)
  login        sign in and store the session token
  logout       forget the stored session token
  whoami       show the signed-in user
  insights     show aggregated insights
  digest       generate, print or send a digest
  schedule     deliver digests periodically
  ingest       import reviews from feeds or a sample file
  migrate      apply storage migrations
  healthcheck  check the local dashboard server
`

func printUsage(w io.Writer) {
	fmt.Fprint(w, usage)
}
