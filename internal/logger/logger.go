package logger

import (
	"go.uber.org/zap"
)

type Config struct {
	Development bool
}

func New(cfg Config) (*zap.SugaredLogger, error) {
	var l *zap.Logger
	var err error
	if cfg.Development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
