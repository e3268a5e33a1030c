package models

import (
	"math"
	"time"

	"github.com/turtacn/keyguard/pkg/constants"
)

// SigningKey represents the metadata of a key used to sign session tokens.
// Material lives with the KeyMaterialProvider; this record never carries it.
// SigningKey 代表用于签署会话令牌的密钥元数据。
// 密钥材料由 KeyMaterialProvider 保存，此记录从不携带材料本身。
type SigningKey struct {
	// KeyID is the stable, operator-facing identifier. Rotation never changes it.
	// KeyID 是稳定的、面向运维人员的标识符，轮换不会改变它。
	KeyID string `gorm:"primaryKey;column:key_id;type:varchar(128)" json:"keyId"`
	// Algorithm is the HMAC algorithm tokens are signed with.
	// Algorithm 是签署令牌所使用的 HMAC 算法。
	Algorithm constants.KeyAlgorithm `gorm:"type:varchar(16);not null" json:"algorithm"`
	// CreatedAt is when the key was added.
	// CreatedAt 是密钥被添加的时间。
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	// RotationFrequency is how long material may be used before rotation is due.
	// RotationFrequency 是材料在需要轮换前可使用的时长。
	RotationFrequency time.Duration `gorm:"not null" json:"rotationFrequency"`
	// IsCurrent marks the key used for new token issuance. At most one key is current.
	// IsCurrent 标记用于签发新令牌的密钥。同一时间最多只有一个当前密钥。
	IsCurrent bool `gorm:"index;not null" json:"isCurrent"`
	// LastRotatedAt is when the current material was issued.
	// LastRotatedAt 是当前材料签发的时间。
	LastRotatedAt time.Time `gorm:"not null" json:"lastRotatedAt"`
	// MaterialVersion counts material generations; superseded generations stay verifiable.
	// MaterialVersion 记录材料的代数；被取代的材料仍可用于验证。
	MaterialVersion int `gorm:"not null;default:1" json:"materialVersion"`
	// Version is the row version used for compare-and-swap updates.
	// Version 是用于比较并交换更新的行版本号。
	Version int64 `gorm:"not null;default:1" json:"-"`
}

// TableName binds the model to the jwt_keys table.
func (SigningKey) TableName() string {
	return "jwt_keys"
}

// RotationDue returns the instant the key becomes overdue.
func (k *SigningKey) RotationDue() time.Time {
	return k.LastRotatedAt.Add(k.RotationFrequency)
}

// Status computes the derived rotation status at the given instant.
// needsRotation is true from the due instant on (inclusive).
func (k *SigningKey) Status(now time.Time) SigningKeyStatus {
	remaining := k.RotationDue().Sub(now)
	return SigningKeyStatus{
		KeyID:             k.KeyID,
		Algorithm:         k.Algorithm,
		IsCurrent:         k.IsCurrent,
		LastRotatedAt:     k.LastRotatedAt,
		NeedsRotation:     !now.Before(k.RotationDue()),
		DaysUntilRotation: floorDays(remaining),
	}
}

// floorDays rounds toward negative infinity so 1h overdue is -1, not 0.
func floorDays(d time.Duration) int {
	return int(math.Floor(float64(d) / float64(constants.Day)))
}

// SigningKeyStatus is the reported rotation state of one key.
// SigningKeyStatus 是单个密钥的轮换状态报告。
type SigningKeyStatus struct {
	KeyID             string                 `json:"key_id"`
	Algorithm         constants.KeyAlgorithm `json:"algorithm"`
	IsCurrent         bool                   `json:"is_current"`
	LastRotatedAt     time.Time              `json:"last_rotated_at"`
	NeedsRotation     bool                   `json:"needs_rotation"`
	DaysUntilRotation int                    `json:"days_until_rotation"`
}

// KeyMaterial is one generation of secret material for a key.
type KeyMaterial struct {
	KeyID           string
	MaterialVersion int
	Algorithm       constants.KeyAlgorithm
	Secret          []byte
}

// NewKeySpec describes a key to add.
type NewKeySpec struct {
	KeyID             string
	Algorithm         constants.KeyAlgorithm
	RotationFrequency time.Duration
	MakeCurrent       bool
}
