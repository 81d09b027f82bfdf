// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLock_DifferentKeysDoNotBlock(t *testing.T) {
	k := newKeyedLock()
	ctx := context.Background()

	unlockA, err := k.Lock(ctx, "a")
	require.NoError(t, err)
	unlockB, err := k.Lock(ctx, "b")
	require.NoError(t, err)

	assert.Equal(t, 2, k.active())
	unlockA()
	unlockB()
	assert.Equal(t, 0, k.active())
}

func TestKeyedLock_SameKeyWaitsForRelease(t *testing.T) {
	k := newKeyedLock()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := k.Lock(context.Background(), "a")
		if err == nil {
			close(acquired)
			second()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the key")
	}
}

func TestKeyedLock_ContextCancelWhileWaiting(t *testing.T) {
	k := newKeyedLock()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, k.active(), "waiter reference released")
}

func TestKeyedLock_UnlockIsIdempotent(t *testing.T) {
	k := newKeyedLock()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	unlock()
	unlock()

	assert.Equal(t, 0, k.active())
}
