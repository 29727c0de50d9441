package inbox

// Notifier shows short user-facing messages (toasts in a UI, lines in the
// CLI).
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Error(string)   {}

const (
	MsgTicketUpdated      = "Ticket updated successfully"
	MsgTicketUpdateFailed = "Failed to update ticket"
	MsgTicketDeleted      = "Ticket deleted successfully"
	MsgTicketDeleteFailed = "Failed to delete ticket"
	MsgNoteAdded          = "Note added successfully"
	MsgNoteAddFailed      = "Failed to add note"
)
