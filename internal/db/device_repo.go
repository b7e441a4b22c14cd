package db

import (
	"context"

	"classifieds/internal/types"
)

// DeviceRepository reads the push destinations users have registered.
type DeviceRepository struct {
	db DBTX
}

// NewDeviceRepository creates a DeviceRepository.
func NewDeviceRepository(db DBTX) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// ListByUser returns every device registered for userID.
func (r *DeviceRepository) ListByUser(ctx context.Context, userID string) ([]types.PushDevice, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, platform, token
		FROM push_devices
		WHERE user_id = $1
		ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list push devices", err)
	}
	defer rows.Close()

	var out []types.PushDevice
	for rows.Next() {
		var (
			d        types.PushDevice
			platform string
		)
		if err := rows.Scan(&d.ID, &d.UserID, &platform, &d.Token); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan push device", err)
		}
		d.Platform = types.DevicePlatform(platform)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate push devices", err)
	}
	return out, nil
}

// Delete removes a device, typically after the provider reported its token
// as no longer valid.
func (r *DeviceRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM push_devices WHERE id = $1`, id); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete push device", err)
	}
	return nil
}
