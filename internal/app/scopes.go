// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package app

import (
	"context"

	"github.com/tomtom215/beacon/internal/apperr"
)

// scopeDirectory resolves a scope id to its configured members.
type scopeDirectory map[string][]string

func newScopeDirectory(scopes map[string][]string) scopeDirectory {
	dir := make(scopeDirectory, len(scopes))
	for id, members := range scopes {
		dir[id] = append([]string(nil), members...)
	}
	return dir
}

// Recipients implements notification.RecipientSource.
func (d scopeDirectory) Recipients(_ context.Context, scopeID string) ([]string, error) {
	members, ok := d[scopeID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "app.scopeRecipients", "unknown scope "+scopeID)
	}
	return append([]string(nil), members...), nil
}
