// Package proto defines the LSNP v1 wire protocol: message type names,
// field keys, and the line-oriented key/value frame codec.
package proto

// Message types carried in the TYPE field.
const (
	TypeProfile  = "PROFILE"
	TypePing     = "PING"
	TypePost     = "POST"
	TypeDM       = "DM"
	TypeAck      = "ACK"
	TypeFollow   = "FOLLOW"
	TypeUnfollow = "UNFOLLOW"
	TypeRevoke   = "REVOKE"
	TypeLike     = "LIKE"

	TypeGameInvite = "TICTACTOE_INVITE"
	TypeGameMove   = "TICTACTOE_MOVE"
	TypeGameResult = "TICTACTOE_RESULT"

	TypeGroupCreate  = "GROUP_CREATE"
	TypeGroupUpdate  = "GROUP_UPDATE"
	TypeGroupMessage = "GROUP_MESSAGE"

	TypeFileOffer    = "FILE_OFFER"
	TypeFileChunk    = "FILE_CHUNK"
	TypeFileReceived = "FILE_RECEIVED"
)

// Field keys. Keys are uppercase ASCII on the wire.
const (
	KeyType           = "TYPE"
	KeyUserID         = "USER_ID"
	KeyDisplayName    = "DISPLAY_NAME"
	KeyStatus         = "STATUS"
	KeyAvatarType     = "AVATAR_TYPE"
	KeyAvatarEncoding = "AVATAR_ENCODING"
	KeyAvatarData     = "AVATAR_DATA"
	KeyContent        = "CONTENT"
	KeyTTL            = "TTL"
	KeyMessageID      = "MESSAGE_ID"
	KeyToken          = "TOKEN"
	KeyFrom           = "FROM"
	KeyTo             = "TO"
	KeyTimestamp      = "TIMESTAMP"

	KeyRecipient   = "RECIPIENT"
	KeyGameID      = "GAMEID"
	KeySymbol      = "SYMBOL"
	KeyTurn        = "TURN"
	KeyPosition    = "POSITION"
	KeyResult      = "RESULT"
	KeyWinningLine = "WINNING_LINE"

	KeyGroupID   = "GROUP_ID"
	KeyGroupName = "GROUP_NAME"
	KeyMembers   = "MEMBERS"
	KeyAdd       = "ADD"
	KeyRemove    = "REMOVE"

	KeyAction        = "ACTION"
	KeyPostTimestamp = "POST_TIMESTAMP"

	KeyFilename    = "FILENAME"
	KeyFilesize    = "FILESIZE"
	KeyFiletype    = "FILETYPE"
	KeyFileID      = "FILEID"
	KeyDescription = "DESCRIPTION"
	KeyChunkIndex  = "CHUNK_INDEX"
	KeyTotalChunks = "TOTAL_CHUNKS"
	KeyChunkSize   = "CHUNK_SIZE"
	KeyData        = "DATA"
)

// Well-known field values.
const (
	StatusReceived = "RECEIVED"

	ActionLike   = "LIKE"
	ActionUnlike = "UNLIKE"

	ResultWin  = "WIN"
	ResultLoss = "LOSS"
	ResultDraw = "DRAW"

	EncodingBase64 = "base64"
)

// MaxDatagram is the largest frame the transport will read or send.
const MaxDatagram = 65535
