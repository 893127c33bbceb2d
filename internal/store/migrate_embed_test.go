// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskboard Contributors

package store

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir(migrationsDir)
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		assert.True(t, pattern.MatchString(name), "file %s should match NNNNNN_name.(up|down).sql", name)
		if base, ok := strings.CutSuffix(name, ".up.sql"); ok {
			ups[base] = true
		}
		if base, ok := strings.CutSuffix(name, ".down.sql"); ok {
			downs[base] = true
		}
	}

	assert.True(t, ups["000001_accounts"])
	assert.Equal(t, ups, downs, "every up migration needs a down migration")
}

func TestMigrationsFS_AccountsSchema(t *testing.T) {
	raw, err := migrationsFS.ReadFile(migrationsDir + "/000001_accounts.up.sql")
	require.NoError(t, err)
	sql := string(raw)

	assert.Contains(t, sql, "UNIQUE (email_key)")
	assert.Contains(t, sql, "(reset_token_hash IS NULL) = (reset_token_expires_at IS NULL)")
}
