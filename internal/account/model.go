// Package account manages student accounts and issues chat session tokens.
package account

import (
	"time"
)

// Student is a portal user identified by USN.
type Student struct {
	USN          string    `json:"usn"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// StudentModel is the GORM model for the students table.
type StudentModel struct {
	USN          string    `gorm:"type:varchar(32);primaryKey"`
	Name         string    `gorm:"type:varchar(100);not null"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (StudentModel) TableName() string {
	return "students"
}

func (m *StudentModel) ToDomain() *Student {
	return &Student{
		USN:          m.USN,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

type SignupRequest struct {
	USN      string `json:"usn" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type LoginRequest struct {
	USN      string `json:"usn" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse carries a session token usable by the gateway and chat-api.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Student   *Student  `json:"student"`
}
