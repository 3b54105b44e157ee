package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret []byte

// ticketTTL bounds how long a join ticket can open a websocket.
const ticketTTL = 24 * time.Hour

// InitJWT sets the signing secret for join tickets.
func InitJWT(secret string) {
	if secret == "" {
		panic("JWT_SECRET is not set")
	}
	jwtSecret = []byte(secret)
}

// GenerateJWT signs a ticket for a self-asserted participant name. The
// ticket only ties a websocket to a name that passed Join; it proves
// nothing about who holds it.
func GenerateJWT(participant string) (string, error) {
	now := time.Now().Unix()
	claims := jwt.MapClaims{
		"participant": participant,
		"exp":         time.Now().Add(ticketTTL).Unix(),
		"iat":         now,
		"nbf":         now,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ParseJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return jwtSecret, nil
	})

	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	participant, ok := claims["participant"].(string)
	if !ok || participant == "" {
		return "", errors.New("participant not found")
	}

	return participant, nil
}
