package service

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 是全局日志接口
// 在其他模块中使用：service.Logger.Info("Signal generated", zap.String("symbol", symbol))
var Logger = zap.NewNop()

// InitLogger 初始化 Zap 日志，level 无法识别时使用 info
func InitLogger(level string) {
	config := zap.NewProductionConfig()

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	// 格式化时间
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	Logger, err = config.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
}

// Named 返回带组件名的 SugaredLogger，供各组件注入使用
func Named(component string) *zap.SugaredLogger {
	return Logger.Named(component).Sugar()
}
