package dialog

import "github.com/spec-kit/intake-service/internal/domain"

// Level rates impact or urgency of a request.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

func levelScore(l Level) float64 {
	switch l {
	case LevelHigh:
		return 90
	case LevelMedium:
		return 50
	default:
		return 10
	}
}

func roleScore(role domain.AccountRole) float64 {
	switch role {
	case domain.AccountRoleSubdirector, domain.AccountRoleJefe:
		return 80
	case domain.AccountRoleAdmin:
		return 50
	default:
		return 10
	}
}

// PriorityMatrix weighs technical severity against requester rank.
func PriorityMatrix(impact, urgency Level, role domain.AccountRole) domain.TicketPriority {
	tech := (levelScore(impact) + levelScore(urgency)) / 2
	score := tech*0.6 + roleScore(role)*0.4
	switch {
	case score >= 80:
		return domain.TicketPriorityCritical
	case score >= 50:
		return domain.TicketPriorityHigh
	case score >= 30:
		return domain.TicketPriorityMedium
	default:
		return domain.TicketPriorityLow
	}
}

// CalculatePriority rates a chat-originated ticket, which carries no impact or urgency.
func CalculatePriority(role domain.AccountRole) domain.TicketPriority {
	return PriorityMatrix(LevelLow, LevelLow, role)
}
