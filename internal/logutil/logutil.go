/*
Copyright 2026 The jit-runner-manager Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logutil wires up the process-wide logrus configuration: JSON
// formatting with secret censoring, adapted from prow's logrusutil.
package logutil

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// CensoringFormatter wraps a logrus.Formatter and replaces any configured
// secret substring with asterisks before the entry is rendered. Mirrors
// prow/logrusutil's CensoringFormatter, minus the Kubernetes secret-watch
// machinery: secrets here are a fixed slice resolved once at startup from
// config.Config.Secrets().
type CensoringFormatter struct {
	delegate logrus.Formatter
	secrets  func() []string
}

// NewCensoringFormatter builds a formatter that censors the given secrets
// function's current return value out of every field and the message.
func NewCensoringFormatter(delegate logrus.Formatter, secrets func() []string) *CensoringFormatter {
	return &CensoringFormatter{delegate: delegate, secrets: secrets}
}

func (f *CensoringFormatter) censor(s string) string {
	for _, secret := range f.secrets() {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, strings.Repeat("*", len(secret)))
	}
	return s
}

// Format implements logrus.Formatter.
func (f *CensoringFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	entry.Message = f.censor(entry.Message)
	for k, v := range entry.Data {
		switch val := v.(type) {
		case string:
			entry.Data[k] = f.censor(val)
		case error:
			entry.Data[k] = f.censor(val.Error())
		case fmt.Stringer:
			entry.Data[k] = f.censor(val.String())
		}
	}
	return f.delegate.Format(entry)
}

// New builds the root logger for a binary: JSON output, configured level,
// censoring of the given secrets.
func New(component, level string, secrets []string) *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(NewCensoringFormatter(&logrus.JSONFormatter{}, func() []string { return secrets }))
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger.WithField("component", component)
}
