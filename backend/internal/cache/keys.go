package cache

import "fmt"

// 键语义：
// - followersKey(view): 视图的跟随者（ZSet<peerID, expireAtUnix>，score=expireAt）
// - namesKey(view):     peerID→username 映射（Hash）
// - cursorKey(view):    领导者光标位置（JSON，带 TTL）
// - viewsKey():         有跟随者的视图索引（Set<view>）

const (
	keyFollowersFmt = "follow:view:{%s}"       // ZSet<peerID, expireAtUnix>
	keyNamesFmt     = "follow:view:names:{%s}" // Hash<peerID -> username>
	keyCursorFmt    = "follow:cursor:{%s}"
	keyViewsSet     = "follow:views" // Set<view>
)

func followersKey(view string) string { return fmt.Sprintf(keyFollowersFmt, view) }
func namesKey(view string) string     { return fmt.Sprintf(keyNamesFmt, view) }
func cursorKey(view string) string    { return fmt.Sprintf(keyCursorFmt, view) }
func viewsKey() string                { return keyViewsSet }
