package media

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mediaforge/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS is enforced at the HTTP layer
}

const snapshotInterval = time.Second

// TokenValidator checks the auth token passed in the websocket query.
type TokenValidator func(token string) error

// ServeJobProgress handles GET /ws/jobs/:id. It upgrades to a websocket
// and pushes ledger snapshots once per second until the job reaches a
// terminal state; the final snapshot is always sent before closing. The
// ledger stays the source of truth; this is just a push view over the
// same polling lookup.
func ServeJobProgress(ledger *Ledger, validate TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := validate(c.Query("token")); err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}
		jobID := c.Param("id")
		if _, ok := ledger.Get(jobID); !ok {
			response.NotFound(c, "job not found")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(snapshotInterval)
		defer ticker.Stop()

		for {
			job, ok := ledger.Get(jobID)
			if !ok {
				return
			}
			if err := conn.WriteJSON(toStatusResponse(job)); err != nil {
				return
			}
			if job.Status.Terminal() {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)))
				return
			}
			select {
			case <-c.Request.Context().Done():
				return
			case <-ticker.C:
			}
		}
	}
}
