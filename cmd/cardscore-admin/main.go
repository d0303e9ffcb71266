package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/folkengine/goname"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/cardscore/config"
	"github.com/tcriess/cardscore/filter"
	"github.com/tcriess/cardscore/globals"
	"github.com/tcriess/cardscore/ledger"
	"github.com/tcriess/cardscore/persistence"
	"github.com/tcriess/cardscore/store"
)

// A very simple CLI tool for the administration of cardscore users and rooms. It works on the configured snapshots
// directly and is meant to be used while the server is stopped.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")

	roomKeyword string
	roomFilter  string
	guestUser   bool
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	// subcommand flags are parsed by cobra
	pflag.CommandLine.ParseErrorsWhitelist.UnknownFlags = true
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		os.Exit(1)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	if globalConfig.PersistenceConfig.Type == persistence.TypeMemory {
		globals.AppLogger.Warn("memory persistence configured, changes are lost on exit")
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		globals.AppLogger.Error("could not create persister", "error", err)
		os.Exit(1)
	}
	st := store.New(persister, globalConfig.NameCacheSize)
	defer st.Close()
	svc := ledger.NewService(st)

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show users, rooms or transactions",
	}
	var cmdShowUsers = &cobra.Command{
		Use:   "users",
		Short: "Show users",
		Long:  `shows a listing of all users.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printJSON(svc.GetAllUsers())
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Show user",
		Long:  `show user prints the user with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user, err := svc.GetUser(args[0])
			if err != nil {
				globals.AppLogger.Error("could not get user", "error", err)
				return
			}
			printJSON(user)
		},
	}
	var cmdShowRooms = &cobra.Command{
		Use:   "rooms",
		Short: "Show rooms",
		Long: `show rooms lists the rooms whose name contains --keyword (ignoring case) and that match the --filter
expression, f.e. 'Members > 2 && Volume >= 100'. Available properties: Id, Name, CreatedAt (unix seconds),
MemberIds, Members, Transactions, Volume and Scores.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			rooms, err := filter.MatchRooms(roomFilter, svc.SearchRooms(roomKeyword))
			if err != nil {
				globals.AppLogger.Error("invalid filter", "error", err)
				return
			}
			printJSON(rooms)
		},
	}
	cmdShowRooms.Flags().StringVarP(&roomKeyword, "keyword", "k", "", "name keyword")
	cmdShowRooms.Flags().StringVarP(&roomFilter, "filter", "f", "", "filter expression")
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Show room",
		Long:  `show room prints the room with the given id together with its members and scores.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			detail, err := svc.GetRoomDetail(args[0])
			if err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			printJSON(detail)
		},
	}
	var cmdShowTransactions = &cobra.Command{
		Use:   "transactions [room id]",
		Short: "Show transactions",
		Long:  `show transactions prints the transaction history of the room with sender and receiver names.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			details, err := svc.GetTransactionDetails(args[0])
			if err != nil {
				globals.AppLogger.Error("could not get transactions", "error", err)
				return
			}
			printJSON(details)
		},
	}

	var cmdCreate = &cobra.Command{
		Use:   "create",
		Short: "Create user or room",
	}
	var cmdCreateUser = &cobra.Command{
		Use:   "user [name]",
		Short: "Create user",
		Long:  `create user returns the user with the given name, creating it if necessary. With --guest a random name is used.`,
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			if guestUser {
				name = goname.New(goname.FantasyMap).FirstLast() + " (guest)"
			}
			user, err := svc.CreateUser(name)
			if err != nil {
				globals.AppLogger.Error("could not create user", "error", err)
				return
			}
			printJSON(user)
		},
	}
	cmdCreateUser.Flags().BoolVar(&guestUser, "guest", false, "generate a guest name")
	var cmdCreateRoom = &cobra.Command{
		Use:   "room [name] [creator id]",
		Short: "Create room",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			room, err := svc.CreateRoom(args[0], args[1])
			if err != nil {
				globals.AppLogger.Error("could not create room", "error", err)
				return
			}
			printJSON(room)
		},
	}

	var cmdJoin = &cobra.Command{
		Use:   "join [room id] [user id]",
		Short: "Add a user to a room",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			room, err := svc.JoinRoom(args[0], args[1])
			if err != nil {
				globals.AppLogger.Error("could not join room", "error", err)
				return
			}
			printJSON(room)
		},
	}
	var cmdLeave = &cobra.Command{
		Use:   "leave [room id] [user id]",
		Short: "Remove a user from a room",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := svc.LeaveRoom(args[0], args[1]); err != nil {
				globals.AppLogger.Error("could not leave room", "error", err)
			}
		},
	}
	var cmdTransfer = &cobra.Command{
		Use:   "transfer [room id] [from user id] [to user id] [amount]",
		Short: "Record a transfer between two members of a room",
		Args:  cobra.ExactArgs(4),
		Run: func(cmd *cobra.Command, args []string) {
			amount, err := strconv.Atoi(args[3])
			if err != nil {
				globals.AppLogger.Error("invalid amount", "amount", args[3], "error", err)
				return
			}
			tx, err := svc.CreateTransaction(args[0], args[1], args[2], amount)
			if err != nil {
				globals.AppLogger.Error("could not create transaction", "error", err)
				return
			}
			printJSON(tx)
		},
	}

	var cmdDelete = &cobra.Command{
		Use:   "delete",
		Short: "delete room or user",
		Long:  `delete removes the user or room with a given user/room id.`,
	}
	var cmdDeleteRoom = &cobra.Command{
		Use:   "room [room id]",
		Short: "Delete room",
		Long:  `delete room removes the room with the given id together with its transaction history.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := svc.DeleteRoom(args[0]); err != nil {
				globals.AppLogger.Error("could not delete room", "error", err)
			}
		},
	}
	var cmdDeleteUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Delete user",
		Long:  `delete user removes the user with the given id. Rooms drop the user from their member list on the next access.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := svc.DeleteUser(args[0]); err != nil {
				globals.AppLogger.Error("could not delete user", "error", err)
			}
		},
	}

	var rootCmd = &cobra.Command{Use: "cardscore-admin"}
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	rootCmd.AddCommand(cmdShow, cmdCreate, cmdJoin, cmdLeave, cmdTransfer, cmdDelete)
	cmdShow.AddCommand(cmdShowUsers, cmdShowUser, cmdShowRooms, cmdShowRoom, cmdShowTransactions)
	cmdCreate.AddCommand(cmdCreateUser, cmdCreateRoom)
	cmdDelete.AddCommand(cmdDeleteRoom, cmdDeleteUser)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		globals.AppLogger.Error("could not marshal", "error", err)
		return
	}
	fmt.Println(string(b))
}
