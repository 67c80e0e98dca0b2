package realtime

import (
	"github.com/google/uuid"

	"github.com/acme/voice-dialer/internal/domain"
)

// Room name helpers.
func AccountRoom(id uuid.UUID) string  { return "account:" + id.String() }
func RoleRoom(role string) string      { return "role:" + role }
func UserRoom(id uuid.UUID) string     { return "user:" + id.String() }
func CallRoom(id string) string        { return "call:" + id }
func CampaignRoom(id uuid.UUID) string { return "campaign:" + id.String() }

// baseRooms are joined on connect.
func baseRooms(id Identity) []string {
	return []string{AccountRoom(id.AccountID), RoleRoom(id.Role), UserRoom(id.UserID)}
}

// Route picks the rooms an event is delivered to. Alerts go by severity.
// A call event also reaches the campaign room so campaign dashboards see
// per-call progress.
func Route(event domain.Event) []string {
	if event.Type == domain.EventAlert {
		return alertRooms(event.Severity)
	}
	switch {
	case event.CallID != "":
		rooms := []string{CallRoom(event.CallID)}
		if event.CampaignID != nil {
			rooms = append(rooms, CampaignRoom(*event.CampaignID))
		}
		return rooms
	case event.CampaignID != nil:
		return []string{CampaignRoom(*event.CampaignID)}
	case event.UserID != nil:
		return []string{UserRoom(*event.UserID)}
	default:
		return []string{AccountRoom(event.AccountID)}
	}
}

func alertRooms(severity domain.Severity) []string {
	switch severity {
	case domain.SeverityCritical, domain.SeverityHigh:
		return []string{RoleRoom(RoleAdmin), RoleRoom(RoleSupervisor)}
	case domain.SeverityMedium:
		return []string{RoleRoom(RoleSupervisor)}
	case domain.SeverityLow:
		return []string{RoleRoom(RoleAdmin)}
	default:
		return []string{RoleRoom(RoleAdmin), RoleRoom(RoleSupervisor)}
	}
}
