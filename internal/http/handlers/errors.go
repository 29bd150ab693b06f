// Package handlers defines the HTTP error taxonomy used across all API
// endpoints.
//
// Engine failures carry a services.Kind; this file maps every Kind to an
// HTTP status and a short human message. Transport-only failures (bad JSON,
// missing identity, unknown routes) use the extra codes below. Codes are
// UPPER_SNAKE_CASE and stable; clients branch on them, not on messages.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "ALREADY_CLAIMED",
//	  "message": "this day is already claimed",
//	  "detail": "2025-10-22"
//	}
package handlers

import (
	"net/http"

	"github.com/tbourn/go-streak-engine/internal/services"
)

// Transport-level codes.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeJobNotFound      = "JOB_NOT_FOUND"
	ErrCodeInternal         = string(services.KindInternal)
)

type kindInfo struct {
	status  int
	message string
}

// kindTable must hold every services.Kind; a test enforces it.
var kindTable = map[services.Kind]kindInfo{
	services.KindAlreadyClaimed:       {http.StatusConflict, "this day is already claimed"},
	services.KindNoHealthData:         {http.StatusUnprocessableEntity, "no engagement signal for this day"},
	services.KindFutureDate:           {http.StatusUnprocessableEntity, "date is in the future"},
	services.KindTooOld:               {http.StatusUnprocessableEntity, "date is outside the claim window"},
	services.KindInvalidDate:          {http.StatusBadRequest, "date must be YYYY-MM-DD"},
	services.KindInvalidTimezone:      {http.StatusBadRequest, "unknown timezone"},
	services.KindInvalidArgument:      {http.StatusBadRequest, "invalid argument"},
	services.KindNoFreezesAvailable:   {http.StatusUnprocessableEntity, "no shields available"},
	services.KindInvalidDateRange:     {http.StatusUnprocessableEntity, "date cannot be covered by a shield"},
	services.KindDateHasActivity:      {http.StatusConflict, "date is already covered"},
	services.KindStreakNotFound:       {http.StatusNotFound, "no streak for this user"},
	services.KindAlreadyInProgress:    {http.StatusConflict, "a recovery is already in progress"},
	services.KindRecoveryLimitReached: {http.StatusUnprocessableEntity, "recovery limit reached"},
	services.KindNoBrokenStreak:       {http.StatusUnprocessableEntity, "no broken streak to recover"},
	services.KindRecoveryWindowClosed: {http.StatusUnprocessableEntity, "recovery window has closed"},
	services.KindPaymentFailed:        {http.StatusPaymentRequired, "payment failed"},
	services.KindRecoveryNotFound:     {http.StatusNotFound, "recovery attempt not found"},
	services.KindRecoveryNotPending:   {http.StatusConflict, "recovery attempt is not pending"},
	services.KindRecoveryExpired:      {http.StatusGone, "recovery attempt has expired"},
	services.KindInvalidRecoveryType:  {http.StatusBadRequest, "invalid recovery type"},
	services.KindAlreadyPaused:        {http.StatusConflict, "streak is already paused"},
	services.KindInvalidResumeDate:    {http.StatusBadRequest, "invalid resume date"},
	services.KindNotPaused:            {http.StatusConflict, "streak is not paused"},
	services.KindUnavailable:          {http.StatusServiceUnavailable, "a dependency is unavailable"},
	services.KindConflict:             {http.StatusConflict, "concurrent update, retry"},
	services.KindInternal:             {http.StatusInternalServerError, "internal server error"},
}

// StatusFor returns the HTTP status for k; unknown kinds are 500.
func StatusFor(k services.Kind) int {
	if info, ok := kindTable[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func messageFor(k services.Kind) string {
	if info, ok := kindTable[k]; ok {
		return info.message
	}
	return kindTable[services.KindInternal].message
}
