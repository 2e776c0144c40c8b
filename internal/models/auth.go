package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the faculty access token payload.
type JWTClaims struct {
	FacultyID string `json:"faculty_id"`
	Name      string `json:"name"`
	Dept      string `json:"dept"`
	jwt.RegisteredClaims
}
