package router

// In-character notices sent instead of a model reply.
const (
	NoticeUnstable       = "*Pikol seems distracted... or maybe napping? He's not responding.*"
	NoticeConnectionLost = "😴 *Pikol seems to have lost his connection to the magic source...*"
	NoticeTimeout        = "⏳ *Pikol is thinking very hard... maybe too hard? Try again in a moment, meow.*"
	NoticeMagicMishap    = "💥 *A magical mishap with the magic source! Pikol can't respond right now... fizzle!*"
)

// fillers stand in for an empty generation.
var fillers = []string{
	"*Pikol looks thoughtful but says nothing... meow?*",
	"*Pikol blinks slowly at you.*",
	"*tail twitches* ...meow.",
	"*Pikol stares at a floating sparkle instead of answering* ✨",
}

// Fillers returns a copy of the empty-reply filler lines.
func Fillers() []string {
	return append([]string(nil), fillers...)
}
