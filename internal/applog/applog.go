// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package applog provides the parent-side structured logging used
// throughout the launcher, built on github.com/sirupsen/logrus (a
// direct teacher dependency) instead of the teacher's own hand-rolled
// pkg/log emitter, since logrus already gives us the text/JSON
// formatter split the teacher's Emitter interface exists to provide.
package applog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger configured per format ("text" or "json")
// and level (one of logrus's level names).
func New(format, level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	switch format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
