package debug

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/lodestone/internal/packets"
)

// StartPprofServer starts the default pprof HTTP server that can be accessed via
// localhost to get runtime information about the server. See https://golang.org/pkg/net/http/pprof/
func StartPprofServer(logger *logrus.Logger, port int) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting pprof server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting pprof server: %s", err)
		}
	}()
}

// LogPacket writes a hex dump of a game packet at debug level.
func LogPacket(logger logrus.FieldLogger, direction string, opcode uint8, payload []byte) {
	logger.WithFields(logrus.Fields{
		"direction": direction,
		"opcode":    opcode,
		"name":      packets.ClientName(opcode),
		"size":      len(payload),
	}).Debug("packet\n" + spew.Sdump(payload))
}

// LogBytes writes a hex dump of raw protocol bytes at debug level.
func LogBytes(logger logrus.FieldLogger, direction string, data []byte) {
	logger.WithFields(logrus.Fields{
		"direction": direction,
		"size":      len(data),
	}).Debug("bytes\n" + spew.Sdump(data))
}
