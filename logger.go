package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log = logrus.New()
	// debugPacketDumpLen limits how many bytes of a packet payload are logged.
	// A value of 0 dumps the entire payload.
	debugPacketDumpLen = 256
	logFiles           []io.Closer
)

// setupLogging sends log output to stderr and to a rotated file under
// logs/errors. Debug runs get a separate debug file.
func setupLogging(debug bool) {
	logDir := filepath.Join(baseDir, "logs", "errors")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "could not create log directory: %v\n", err)
	}
	ts := time.Now().Format("20060102-150405")

	kind := "error"
	log.SetLevel(logrus.WarnLevel)
	if debug {
		kind = "debug"
		log.SetLevel(logrus.DebugLevel)
	}
	file := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, fmt.Sprintf("%s-%s.log", kind, ts)),
		MaxSize:    max(gs.LogMaxMB, 1),
		MaxBackups: gs.LogKeep,
		Compress:   true,
	}
	logFiles = append(logFiles, file)
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetOutput(log.Out)
	logrus.SetLevel(log.GetLevel())
}

func closeLogging() {
	for _, c := range logFiles {
		c.Close()
	}
	logFiles = nil
}

func logError(format string, v ...interface{}) {
	log.Errorf(format, v...)
}

func logWarn(format string, v ...interface{}) {
	log.Warnf(format, v...)
}

func logDebug(format string, v ...interface{}) {
	log.Debugf(format, v...)
}

func logDebugPacket(prefix string, data []byte) {
	if !log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	n := len(data)
	dump := data
	if debugPacketDumpLen > 0 && n > debugPacketDumpLen {
		dump = data[:debugPacketDumpLen]
	}
	log.Debugf("%s len=%d payload=% x", prefix, n, dump)
}
