// Package models holds the GORM rows behind the session repository.
//
// A session is stored as a JSON document next to the columns that are queried
// or compared directly (status, currency, amount, expires_at, version).
package models
