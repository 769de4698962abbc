// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import "time"

// HTTP limits.
const (
	maxBodySize   = 64 * 1024
	maxLobbyLimit = 200
	defaultLobby  = "status:waiting"
)

// Hub tuning.
const (
	hubIdleTimeout = 5 * time.Minute
	wsSendBuffer   = 256
)

// Retry-After values, in seconds.
const (
	retryAfterHubBusy  = 1
	retryAfterConflict = 1
)

// WebSocket message types.
const (
	MsgTypeJoin  = "JOIN"
	MsgTypePing  = "PING"
	MsgTypePong  = "PONG"
	MsgTypeState = "STATE"
	MsgTypePitch = "PITCH"
	MsgTypePlay  = "PLAY"
	MsgTypeError = "ERROR"
)
