package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the read-side of the external identity collaborator. The order
// pipeline only needs the id/email pair for guest order soft-linking.
type User struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email     string    `gorm:"column:email;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
