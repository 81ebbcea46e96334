// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"github.com/cybersentinel/core/pkg/dlperrors"
	"github.com/gin-gonic/gin"
)

// respondError maps err onto the HTTP status spec §7 assigns its
// dlperrors.Kind, except KindDuplicateEvent which the caller handles
// as a 2xx success rather than an error.
func respondError(c *gin.Context, err error) {
	kind := dlperrors.Classify(err)
	if kind == dlperrors.KindBusy {
		c.Header("Retry-After", "1")
	}
	c.JSON(kind.HTTPStatus(), gin.H{"error": err.Error()})
}
