package core

import (
	"github.com/cpacia/xmrescrow/database"
	"github.com/cpacia/xmrescrow/models"
	"github.com/jinzhu/gorm"
)

// ListNotifications returns the most recent notifications, newest first.
func (n *XMREscrowNode) ListNotifications(limit int) ([]models.NotificationRecord, error) {
	var records []models.NotificationRecord
	err := n.repo.DB().View(func(tx database.Tx) error {
		return tx.Read().Order("timestamp desc").Limit(limit).Find(&records).Error
	})
	if err != nil && !gorm.IsRecordNotFoundError(err) {
		return nil, err
	}
	return records, nil
}
