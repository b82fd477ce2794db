// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

// Package validation provides struct validation using go-playground/validator v10.
//
// A single validator instance is built on first use. Fields are reported by
// their JSON names, and one custom tag is registered:
//
//   - identifier: 1-128 characters of letters, digits and ._:@- starting
//     with a letter or digit, used for actor, recipient and scope ids
//
// # Usage
//
//	type SendRequest struct {
//	    RecipientID string `json:"recipientId" validate:"required,identifier"`
//	    Type        string `json:"type" validate:"required,max=64"`
//	}
//
//	if err := validation.Check("notification.send", &req); err != nil {
//	    return err // *apperr.Error of kind ValidationFailed, Fields per failing field
//	}
package validation
