package bot

// User-facing command replies.
const (
	MsgServiceDown    = "😴 *Pikol is currently asleep (cannot connect to magic source)... Try again later!*"
	MsgAlreadyActive  = "A roleplay session is already active in this channel, meow!"
	MsgStarted        = "✨ *Pikol stretches, wand twitching.* Ready for adventure, meow!"
	MsgEnded          = "✨ *Pikol yawns, curls up, and drifts off to sleep...* Roleplay session ended!"
	MsgNotFound       = "There's no active roleplay session to end here, meow."
	MsgGenericFailure = "❌ Something went wrong starting the magic... *confused meow*"
	MsgNoModels       = "*Pikol peers into the magic source and finds no models at all... meow?*"
)
