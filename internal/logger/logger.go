package logger

import (
	"io"
	"log"
	"os"
)

var (
	InfoLogger  *log.Logger
	ErrorLogger *log.Logger
	logFile     *os.File
)

// Init initializes the loggers. Log lines go to both stderr and the log file
// so the service stays debuggable when run under a process manager.
func Init(logFilePath string) error {
	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return err
	}

	out := io.MultiWriter(os.Stderr, logFile)
	InfoLogger = log.New(out, "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLogger = log.New(out, "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
	return nil
}

// RotateLog clears the current log file to start fresh
func RotateLog(logFilePath string) error {
	if logFile != nil {
		logFile.Close()
	}

	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}

	out := io.MultiWriter(os.Stderr, logFile)
	InfoLogger.SetOutput(out)
	ErrorLogger.SetOutput(out)

	return nil
}

// Cleanup closes the log file when the application is done using it
func Cleanup() {
	if logFile != nil {
		logFile.Close()
	}
}

// Info logs an informational message
func Info(v ...interface{}) {
	if InfoLogger == nil {
		log.Println(v...)
		return
	}
	InfoLogger.Println(v...)
}

// Error logs an error message
func Error(v ...interface{}) {
	if ErrorLogger == nil {
		log.Println(v...)
		return
	}
	ErrorLogger.Println(v...)
}
