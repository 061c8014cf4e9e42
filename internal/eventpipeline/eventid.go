// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strconv"
	"time"
)

const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateEventID produces a collision-resistant event identifier from a
// millisecond timestamp and a random base36 suffix, matching the id shape
// the note producers have always emitted. Not a cryptographic primitive;
// collision probability only needs to be operationally negligible.
func GenerateEventID() string {
	return fmt.Sprintf("evt_%d_%s", time.Now().UnixMilli(), randomBase36(9))
}

func randomBase36(n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = base36Chars[rand.IntN(len(base36Chars))]
	}
	return string(buf)
}

// DeriveEventID produces a deterministic event identifier from a broker
// message identifier. A message that omits event_id would otherwise get a
// fresh random id on every redelivery attempt, defeating idempotent
// insertion at the store; deriving from the delivery-stable message UUID
// keeps reprocessing convergent under at-least-once delivery.
//
// Returns a freshly generated id when messageUUID is empty.
func DeriveEventID(messageUUID string) string {
	if messageUUID == "" {
		return GenerateEventID()
	}
	h := fnv.New64a()
	h.Write([]byte(messageUUID))
	return "evt_m_" + strconv.FormatUint(h.Sum64(), 36)
}
