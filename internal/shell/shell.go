// Package shell is the interactive terminal front end: it parses user
// commands, drives the outbound actions, and renders peer store snapshots.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/petervdpas/lsnp/internal/actions"
	"github.com/petervdpas/lsnp/internal/file"
	"github.com/petervdpas/lsnp/internal/game"
	"github.com/petervdpas/lsnp/internal/group"
	"github.com/petervdpas/lsnp/internal/logger"
	"github.com/petervdpas/lsnp/internal/proto"
	"github.com/petervdpas/lsnp/internal/state"
)

// Shell reads commands from In and writes results to Out.
type Shell struct {
	Acts   *actions.Actions
	Store  *state.Store
	Games  *game.Manager
	Groups *group.Manager
	Files  *file.Manager
	Log    *logger.Logger

	In  io.Reader
	Out io.Writer
}

// Notify prints an asynchronous event line (incoming DM, game move, ...).
func (s *Shell) Notify(text string) {
	fmt.Fprintf(s.Out, "\n>> %s\n> ", text)
}

// Run is the REPL. It returns when the input closes, the user exits, or
// ctx is cancelled.
func (s *Shell) Run(ctx context.Context) {
	fmt.Fprintln(s.Out, `Type "help" for commands.`)
	scanner := bufio.NewScanner(s.In)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for {
		fmt.Fprint(s.Out, "> ")
		if !scanner.Scan() {
			return
		}
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		if err := s.exec(line); err != nil {
			fmt.Fprintf(s.Out, "error: %v\n", err)
		}
	}
}

func (s *Shell) exec(line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "help":
		s.printHelp()
	case "profile":
		return s.cmdProfile(rest)
	case "status":
		return s.cmdStatus(rest)
	case "avatar":
		return s.Acts.SetAvatar(rest)
	case "peers":
		s.printPeers()
	case "posts":
		s.printPosts(rest)
	case "dms":
		s.printDMs(rest)
	case "followers":
		s.printList(s.Store.Followers())
	case "following":
		s.printList(s.Store.Following())
	case "likes":
		s.printLikes()
	case "post":
		return s.Acts.SendPost(rest, 3600)
	case "dm":
		return s.cmdDM(rest)
	case "follow":
		return s.Acts.Follow(rest)
	case "unfollow":
		return s.Acts.Unfollow(rest)
	case "like":
		return s.cmdLike(rest, false)
	case "unlike":
		return s.cmdLike(rest, true)
	case "game":
		return s.cmdGame(rest)
	case "games":
		s.printGames()
	case "group":
		return s.cmdGroup(rest)
	case "groups":
		s.printGroups()
	case "file":
		return s.cmdFile(rest)
	case "files":
		s.printFiles()
	case "verbose":
		return s.cmdVerbose(rest)
	default:
		fmt.Fprintf(s.Out, "unknown command %q; try help\n", cmd)
	}
	return nil
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.Out, `commands:
  profile <username> [display name]   set identity (username is fixed after first set)
  status <text>                       update status line
  avatar <path>                       attach an avatar image
  post <text>                         post to your followers
  dm <user> <text>                    send a reliable direct message
  follow / unfollow <user>            manage who you follow
  like / unlike <user> <post-ts>      react to a peer's post
  game invite <user>                  start tic-tac-toe (you play X)
  game move <id> <0-8>                play a cell
  game board <id>                     show a board
  group create <name> <u1,u2,...>     create a group
  group add <id> <u1,...>             add members (creator only)
  group remove <id> <u1,...>          remove members (creator only)
  group msg <id> <text>               message a group
  file send <user> <path> [note]      offer and stream a file
  peers | posts | dms | followers | following | likes | games | groups | files
  verbose on|off                      toggle frame echo
  exit
`)
}

func (s *Shell) cmdProfile(rest string) error {
	username, display, _ := strings.Cut(rest, " ")
	if username == "" {
		return fmt.Errorf("usage: profile <username> [display name]")
	}
	if display == "" {
		display = username
	}
	status := "Exploring LSNP!"
	if own, ok := s.Store.OwnProfile(); ok {
		status = own.Status
	}
	prof, err := s.Store.SetOwnProfile(username, strings.TrimSpace(display), status)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "you are %s (%s)\n", prof.UserID, prof.DisplayName)
	return nil
}

func (s *Shell) cmdStatus(rest string) error {
	own, ok := s.Store.OwnProfile()
	if !ok {
		return actions.ErrNoProfile
	}
	username, _ := proto.SplitUserID(own.UserID)
	_, err := s.Store.SetOwnProfile(username, own.DisplayName, rest)
	return err
}

func (s *Shell) cmdDM(rest string) error {
	user, text, ok := strings.Cut(rest, " ")
	if !ok {
		return fmt.Errorf("usage: dm <user> <text>")
	}
	msgID, err := s.Acts.SendDM(user, strings.TrimSpace(text))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "sent [%s]\n", msgID)
	return nil
}

func (s *Shell) cmdLike(rest string, unlike bool) error {
	user, tsStr, ok := strings.Cut(rest, " ")
	if !ok {
		return fmt.Errorf("usage: like <user> <post-timestamp>")
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(tsStr), 10, 64)
	if err != nil {
		return fmt.Errorf("post-timestamp must be a number")
	}
	return s.Acts.SendLike(user, ts, unlike)
}

func (s *Shell) cmdGame(rest string) error {
	sub, args, _ := strings.Cut(rest, " ")
	args = strings.TrimSpace(args)
	switch sub {
	case "invite":
		g, err := s.Acts.InviteGame(args)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.Out, "game %s against %s; you play %c and move first\n", g.ID, g.Opponent, g.MySymbol)
	case "move":
		id, posStr, ok := strings.Cut(args, " ")
		if !ok {
			return fmt.Errorf("usage: game move <id> <0-8>")
		}
		pos, err := strconv.Atoi(strings.TrimSpace(posStr))
		if err != nil {
			return fmt.Errorf("position must be 0-8")
		}
		g, err := s.Acts.SendMove(id, pos)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.Out, g.Board.String())
	case "board":
		g, ok := s.Games.Get(args)
		if !ok {
			return fmt.Errorf("no game %s", args)
		}
		fmt.Fprintln(s.Out, g.Board.String())
	default:
		return fmt.Errorf("usage: game invite|move|board ...")
	}
	return nil
}

func (s *Shell) cmdGroup(rest string) error {
	sub, args, _ := strings.Cut(rest, " ")
	args = strings.TrimSpace(args)
	switch sub {
	case "create":
		name, memberList, ok := strings.Cut(args, " ")
		if !ok {
			return fmt.Errorf("usage: group create <name> <u1,u2,...>")
		}
		id, err := s.Acts.CreateGroup(name, splitList(memberList))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.Out, "group %s created\n", id)
	case "add", "remove":
		id, memberList, ok := strings.Cut(args, " ")
		if !ok {
			return fmt.Errorf("usage: group %s <id> <u1,...>", sub)
		}
		members := splitList(memberList)
		if sub == "add" {
			return s.Acts.UpdateGroup(id, members, nil)
		}
		return s.Acts.UpdateGroup(id, nil, members)
	case "msg":
		id, text, ok := strings.Cut(args, " ")
		if !ok {
			return fmt.Errorf("usage: group msg <id> <text>")
		}
		return s.Acts.SendGroupMessage(id, strings.TrimSpace(text))
	default:
		return fmt.Errorf("usage: group create|add|remove|msg ...")
	}
	return nil
}

func (s *Shell) cmdFile(rest string) error {
	sub, args, _ := strings.Cut(rest, " ")
	if sub != "send" {
		return fmt.Errorf("usage: file send <user> <path> [note]")
	}
	user, pathAndNote, ok := strings.Cut(strings.TrimSpace(args), " ")
	if !ok {
		return fmt.Errorf("usage: file send <user> <path> [note]")
	}
	path, note, _ := strings.Cut(strings.TrimSpace(pathAndNote), " ")
	fileID, err := s.Acts.SendFile(user, path, strings.TrimSpace(note))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "offered as %s\n", fileID)
	return nil
}

func (s *Shell) cmdVerbose(rest string) error {
	switch rest {
	case "on":
		s.Log.SetVerbose(true)
	case "off":
		s.Log.SetVerbose(false)
	default:
		return fmt.Errorf("usage: verbose on|off")
	}
	return nil
}

func (s *Shell) printPeers() {
	peers := s.Store.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(s.Out, "no peers yet")
		return
	}
	for _, p := range peers {
		marker := ""
		if s.Store.IsFollowing(p.UserID) {
			marker = " [following]"
		}
		fmt.Fprintf(s.Out, "%s  %s  %s%s\n", p.UserID, p.DisplayName, p.Status, marker)
	}
}

func (s *Shell) printPosts(user string) {
	if user == "" {
		for _, p := range s.Store.OwnPosts() {
			fmt.Fprintf(s.Out, "[%d] %s\n", p.Timestamp, p.Content)
		}
		return
	}
	p, ok := s.Store.Peer(user)
	if !ok {
		fmt.Fprintf(s.Out, "unknown peer %s\n", user)
		return
	}
	for _, post := range p.Posts {
		fmt.Fprintf(s.Out, "[%d] %s\n", post.Timestamp, post.Content)
	}
}

func (s *Shell) printDMs(user string) {
	if user != "" {
		p, ok := s.Store.Peer(user)
		if !ok {
			fmt.Fprintf(s.Out, "unknown peer %s\n", user)
			return
		}
		for _, dm := range p.DMs {
			fmt.Fprintf(s.Out, "[%d] %s\n", dm.Timestamp, dm.Content)
		}
		return
	}
	for _, p := range s.Store.Peers() {
		for _, dm := range p.DMs {
			fmt.Fprintf(s.Out, "[%d] %s: %s\n", dm.Timestamp, p.UserID, dm.Content)
		}
	}
}

func (s *Shell) printLikes() {
	for _, l := range s.Store.Likes() {
		fmt.Fprintf(s.Out, "%s liked post [%d]\n", l.From, l.PostTimestamp)
	}
}

func (s *Shell) printGames() {
	for _, g := range s.Games.List() {
		turn := "their move"
		if g.MyTurn {
			turn = "your move"
		}
		fmt.Fprintf(s.Out, "%s vs %s (%s)\n%s\n", g.ID, g.Opponent, turn, g.Board)
	}
}

func (s *Shell) printGroups() {
	for _, g := range s.Groups.List() {
		fmt.Fprintf(s.Out, "%s  %q  creator=%s  members=%s\n",
			g.ID, g.Name, g.Creator, strings.Join(g.Members, ","))
	}
}

func (s *Shell) printFiles() {
	for _, o := range s.Files.Pending() {
		recv, total, _ := s.Files.Progress(o.ID)
		fmt.Fprintf(s.Out, "%s  %s from %s  %d/%d chunks\n", o.ID, o.Name, o.From, recv, total)
	}
	for _, o := range s.Files.Completed() {
		fmt.Fprintf(s.Out, "%s  %s from %s  done (%d bytes)\n", o.ID, o.Name, o.From, o.Size)
	}
}

func (s *Shell) printList(items []string) {
	if len(items) == 0 {
		fmt.Fprintln(s.Out, "(none)")
		return
	}
	for _, it := range items {
		fmt.Fprintln(s.Out, it)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
