package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定する。
// writerが指定された場合はそのwriterに出力する。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w)
	slog.SetDefault(logger)
}

// NewRotatingWriter はローテーション付きのログファイルwriterを生成する。
// retentionDays日を超えた古いログファイルは削除される。
func NewRotatingWriter(path string, retentionDays int) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename: path,
		MaxSize:  100, // MB
		MaxAge:   retentionDays,
		Compress: true,
	}
}

// Output はログの出力先を返す。logFileが指定された場合はstdoutとローテーションファイルの両方に出力する。
// 返されるio.Closerはファイル出力を閉じる。ファイル出力がない場合は何もしない。
func Output(stdout io.Writer, logFile string, retentionDays int) (io.Writer, io.Closer) {
	if logFile == "" {
		return stdout, nopCloser{}
	}
	file := NewRotatingWriter(logFile, retentionDays)
	return io.MultiWriter(stdout, file), file
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
