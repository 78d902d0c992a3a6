package utils

import (
	"io"

	"github.com/MrSnakeDoc/sitewatch/internal/logger"
)

// drainLimit bounds how much of an unread body is discarded so the
// connection can be reused.
const drainLimit = 64 << 10

// CloseLogged closes c and logs any error under the given name.
func CloseLogged(c io.Closer, log logger.Logger, name string) {
	if err := c.Close(); err != nil {
		log.Warn("failed to close", logger.String("resource", name), logger.Error(err))
	}
}

// DrainAndClose discards what is left of an HTTP body, then closes it.
func DrainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, drainLimit))
	_ = rc.Close()
}
