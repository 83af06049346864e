package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Shared structured-log field names used across services.
const (
	FieldNetwork  = "network"
	FieldIntent   = "intent_id"
	FieldCampaign = "campaign_id"
	FieldBlock    = "block_number"
	FieldTxHash   = "tx_hash"
	FieldModule   = "module"
)

func New(writer io.Writer, level zerolog.Level, jsonOutput bool) zerolog.Logger {
	if !jsonOutput {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Caller().Logger()
}
