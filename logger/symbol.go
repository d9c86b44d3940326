package logger

import (
	"github.com/teranos/datapump/sym"
	"go.uber.org/zap"
)

// Symbol-aware logging helpers.
// These attach the symbol as a structured field, not in the message, so logs
// stay queryable by symbol.
//
//	logger.AddPumpSymbol(c.logger).Infow("Job started", logger.FieldJob, job.Name)

// AddPumpSymbol wraps a logger with the Pump symbol (⇶)
func AddPumpSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Pump)
}

// AddScannerSymbol wraps a logger with the Scanner symbol (꩜)
func AddScannerSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Scanner)
}

// AddOpenSymbol wraps a logger with the startup symbol (✿)
func AddOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Open)
}

// AddCloseSymbol wraps a logger with the shutdown symbol (❀)
func AddCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.Close)
}

// AddDBSymbol wraps a logger with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return l.With(FieldSymbol, sym.DB)
}
