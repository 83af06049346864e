// Package signer is the HTTP client for the external signing service. The
// service holds the custody keys; this process only ever exchanges unsigned
// payloads for signed ones.
package signer

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/h2non/gentleman.v2"
	"gopkg.in/h2non/gentleman.v2/plugins/body"

	"github.com/opencause/escrow/logging"
)

// Client implements the services.Signer interface against a remote signing
// service.
type Client struct {
	http   *gentleman.Client
	logger zerolog.Logger
}

// New creates a Client for the signing service at baseURL.
func New(baseURL string, logger zerolog.Logger) *Client {
	client := gentleman.New()
	client.BaseURL(strings.TrimRight(baseURL, "/"))

	return &Client{
		http:   client,
		logger: logger.With().Str(logging.FieldModule, "signer_client").Logger(),
	}
}

type signRequest struct {
	Payload string `json:"payload"`
}

type signResponse struct {
	SignedTx string `json:"signed_tx"`
}

// Sign submits an unsigned payout payload and returns the signed transaction.
func (c *Client) Sign(ctx context.Context, unsignedTx []byte) ([]byte, error) {
	req := c.http.Request().
		Method("POST").
		Path("/v1/sign").
		Use(body.JSON(signRequest{Payload: base64.StdEncoding.EncodeToString(unsignedTx)}))
	req.Context.SetCancelContext(ctx)
	res, err := req.Send()
	if err != nil {
		return nil, errors.Wrap(err, "failed to call signing service")
	}
	if !res.Ok {
		return nil, errors.Errorf("signing request failed with status %d", res.StatusCode)
	}

	var parsed signResponse
	if err := res.JSON(&parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode signing response")
	}

	signed, err := base64.StdEncoding.DecodeString(parsed.SignedTx)
	if err != nil {
		return nil, errors.Wrap(err, "signing service returned malformed payload")
	}
	return signed, nil
}

type broadcastRequest struct {
	SignedTx string `json:"signed_tx"`
}

type broadcastResponse struct {
	TxHash string `json:"tx_hash"`
}

// Broadcast submits a signed transaction and returns its hash.
func (c *Client) Broadcast(ctx context.Context, signedTx []byte) (string, error) {
	req := c.http.Request().
		Method("POST").
		Path("/v1/broadcast").
		Use(body.JSON(broadcastRequest{SignedTx: base64.StdEncoding.EncodeToString(signedTx)}))
	req.Context.SetCancelContext(ctx)
	res, err := req.Send()
	if err != nil {
		return "", errors.Wrap(err, "failed to call broadcast endpoint")
	}
	if !res.Ok {
		return "", errors.Errorf("broadcast request failed with status %d", res.StatusCode)
	}

	var parsed broadcastResponse
	if err := res.JSON(&parsed); err != nil {
		return "", errors.Wrap(err, "failed to decode broadcast response")
	}
	if parsed.TxHash == "" {
		return "", errors.New("broadcast response missing transaction hash")
	}
	return parsed.TxHash, nil
}
