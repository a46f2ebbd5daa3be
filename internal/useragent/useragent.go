// Copyright 2026 The zb Authors
// SPDX-License-Identifier: MIT

// Package useragent contains the User-Agent HTTP header constant for zap.
package useragent

// String is the user agent string used for making HTTP requests in zap.
const String = "zap"
