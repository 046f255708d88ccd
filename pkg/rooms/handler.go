package rooms

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hamsafar/dispatch/pkg/models"
)

// Claims represents JWT claims for WebSocket authentication
type Claims struct {
	UserID   uuid.UUID       `json:"user_id"`
	Role     models.UserRole `json:"role"`
	DriverID *uuid.UUID      `json:"driver_id,omitempty"`
	jwt.RegisteredClaims
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, implement proper origin checking
		return true
	},
}

// HandleWebSocket handles WebSocket upgrade and authentication. onConnect,
// if non-nil, runs after the client is registered (location hint joins etc.).
func HandleWebSocket(c *gin.Context, hub *Hub, jwtSecret string, onConnect func(*Client)) {
	// Get token from query parameter or header
	tokenString := c.Query("token")
	if tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}

	// Parse and validate token
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(jwtSecret), nil
	})

	if err != nil || !token.Valid {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token claims"})
		return
	}

	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("rooms: websocket upgrade failed: %v", err)
		return
	}

	driverID := ""
	if claims.DriverID != nil {
		driverID = claims.DriverID.String()
	}

	client := NewClient(claims.UserID.String(), driverID, string(claims.Role), conn, hub)
	hub.Register(client)

	if onConnect != nil {
		onConnect(client)
	}

	go client.WritePump()
	go client.ReadPump()
}
