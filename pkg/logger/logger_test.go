package logger_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/mementolabs/memento/pkg/logger"
)

var _ = Describe("Logger", func() {
	It("writes structured entries to the given writer", func() {
		var buf bytes.Buffer
		l := logger.NewLoggerWithWriters(false, &buf)
		l.Info("hello", zap.String("key", "value"))
		l.Sync()

		output := buf.String()
		Expect(output).To(ContainSubstring("hello"))
		Expect(output).To(ContainSubstring("key"))
		Expect(output).To(ContainSubstring("value"))
	})

	It("suppresses debug entries unless debug is enabled", func() {
		var quiet, verbose bytes.Buffer

		logger.NewLoggerWithWriters(false, &quiet).Debug("hidden")
		logger.NewLoggerWithWriters(true, &verbose).Debug("visible")

		Expect(quiet.String()).NotTo(ContainSubstring("hidden"))
		Expect(verbose.String()).To(ContainSubstring("visible"))
	})

	It("fans out to multiple writers", func() {
		var first, second bytes.Buffer
		l := logger.NewLoggerWithWriters(false, &first, &second)
		l.Info("fanout")
		l.Sync()

		Expect(first.String()).To(ContainSubstring("fanout"))
		Expect(second.String()).To(ContainSubstring("fanout"))
	})
})
