package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/sirupsen/logrus"
)

// WatermillAdapter routes watermill's logs into logrus.
type WatermillAdapter struct {
	log logrus.FieldLogger
}

func NewWatermill(log logrus.FieldLogger) *WatermillAdapter {
	return &WatermillAdapter{log: log}
}

func (w *WatermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.log.WithFields(logrus.Fields(fields)).WithError(err).Error(msg)
}

func (w *WatermillAdapter) Info(msg string, fields watermill.LogFields) {
	w.log.WithFields(logrus.Fields(fields)).Info(msg)
}

func (w *WatermillAdapter) Debug(msg string, fields watermill.LogFields) {
	w.log.WithFields(logrus.Fields(fields)).Debug(msg)
}

// Trace is folded into debug; logrus.FieldLogger has no trace level.
func (w *WatermillAdapter) Trace(msg string, fields watermill.LogFields) {
	w.log.WithFields(logrus.Fields(fields)).Debug(msg)
}

func (w *WatermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillAdapter{log: w.log.WithFields(logrus.Fields(fields))}
}
