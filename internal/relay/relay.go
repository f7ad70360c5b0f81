package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fimai/fimai-chat/internal/logging"
	"github.com/fimai/fimai-chat/internal/tokens"
	log "github.com/sirupsen/logrus"
)

const (
	initialLineBuffer = 64 << 10
	maxLineBytes      = 4 << 20
	usagePrefix       = "[TOKEN_USAGE]"
)

// Result summarises a relayed stream.
type Result struct {
	Content       string
	Usage         Usage
	Authoritative bool // Usage came from the upstream.
	Forwarded     int
	Dropped       int
}

// Writer receives relayed frames. Flush is called after every frame.
type Writer interface {
	io.Writer
	Flush()
}

// Stream copies upstream SSE events from body to w. It always finishes with
// a data: [DONE] frame followed by a [TOKEN_USAGE] frame; when the upstream
// sent no usage, counts are estimated from promptText and the reply. A write
// error, usually a disconnected client, stops the relay and is returned with
// the partial result.
func Stream(ctx context.Context, w Writer, body io.Reader, promptText string) (Result, error) {
	var res Result
	var reply strings.Builder
	var usage *Usage

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBytes)

	requestID := logging.RequestIDFromContext(ctx)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		payload, ok := dataPayload(scanner.Bytes())
		if !ok {
			continue
		}
		chunk := ParseData(payload)
		if chunk.Done {
			break
		}
		if chunk.Err != nil {
			res.Dropped++
			log.WithError(chunk.Err).WithField("request_id", requestID).Warn("relay: dropped malformed chunk")
			continue
		}
		ev := chunk.Event
		reply.WriteString(ev.Content)
		if ev.Usage != nil {
			usage = ev.Usage
		}
		if errWrite := writeFrame(w, "data: ", ev.Payload); errWrite != nil {
			res.Content = reply.String()
			return res, errWrite
		}
		res.Forwarded++
	}
	if errScan := scanner.Err(); errScan != nil && ctx.Err() == nil {
		log.WithError(errScan).WithField("request_id", requestID).Warn("relay: upstream stream ended with error")
	}

	res.Content = reply.String()
	if usage != nil {
		res.Usage = *usage
		res.Authoritative = true
	} else {
		res.Usage = Estimate(promptText, res.Content)
	}

	if errWrite := writeFrame(w, "data: ", []byte(doneMarker)); errWrite != nil {
		return res, errWrite
	}
	usageJSON, errMarshal := json.Marshal(res.Usage)
	if errMarshal != nil {
		return res, fmt.Errorf("relay: encode usage: %w", errMarshal)
	}
	if errWrite := writeFrame(w, usagePrefix, usageJSON); errWrite != nil {
		return res, errWrite
	}
	return res, nil
}

// Estimate builds an estimated usage from prompt and reply text.
func Estimate(promptText, replyText string) Usage {
	u := Usage{
		PromptTokens:     int64(tokens.Estimate(promptText)),
		CompletionTokens: int64(tokens.Estimate(replyText)),
		IsEstimated:      true,
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// dataPayload returns the payload of an SSE data line.
func dataPayload(line []byte) ([]byte, bool) {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	return bytes.TrimPrefix(line[len("data:"):], []byte(" ")), true
}

func writeFrame(w Writer, prefix string, payload []byte) error {
	buf := make([]byte, 0, len(prefix)+len(payload)+2)
	buf = append(buf, prefix...)
	buf = append(buf, payload...)
	buf = append(buf, '\n', '\n')
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("relay: write: %w", err)
	}
	w.Flush()
	return nil
}
