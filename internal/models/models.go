/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models defines the persisted schema for play history and
// generated daily mixes.
package models

import "time"

// PlayRecord is one finished (or skipped-past) playback, attributed to
// the requesting user and the session it played in.
type PlayRecord struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	SessionKey string `gorm:"index"`
	UserID     string `gorm:"index"`
	UserName   string
	TrackID    string `gorm:"index"`
	Title      string
	Author     string
	DurationMS int64
	ArtworkURL string
	PlayedAt   time.Time `gorm:"index"`
	CreatedAt  time.Time
}

// DailyMix is a generated per-user playlist built from listening history.
// One mix per user per day; Date is the UTC day it was generated for.
type DailyMix struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"index:idx_daily_mix_user_date,unique"`
	Date      string    `gorm:"type:varchar(10);index:idx_daily_mix_user_date,unique"`
	TrackIDs  string    `gorm:"type:text"`
	CreatedAt time.Time
}
