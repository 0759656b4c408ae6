// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the engine's YAML configuration.
//
// Configuration comes from exactly one file, named either by the
// DATAVIEW_CONFIG environment variable ([Load]) or by a --config flag
// ([LoadFile]). Commands that run without either use [Default]. There
// is no directory search, so the effective configuration is always
// the file the operator named.
//
// A file may carry development and production blocks that override
// base values when [Config].Environment matches. Production without an
// explicit block tightens the remote request budget.
//
// Path fields support ${HOME}, ${TMPDIR}, and ${VAR:-default}
// expansion. Other environment variables never override config values.
package config
