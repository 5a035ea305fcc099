package bot

import "github.com/bwmarrin/discordgo"

var (
	adminPermission  int64 = discordgo.PermissionAdministrator
	manageMessages   int64 = discordgo.PermissionManageMessages
	minDeleteCount         = float64(1)
	maxDeleteCount         = float64(maxDelete)
	dmPermissionDeny       = false
)

func ephemeralOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionBoolean,
		Name:        "ephemeral",
		Description: "Delete the result after a short delay (default true)",
		Required:    false,
	}
}

func memberOption(description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "member",
		Description: description,
		Required:    required,
	}
}

func reasonOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: description,
		Required:    false,
		MaxLength:   400,
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "help",
			Description: "Open the interactive help menu",
		},
		{
			Name:        "dns",
			Description: "Look up A, CNAME and MX records",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "host",
					Description: "Domain name to resolve",
					Required:    true,
				},
				ephemeralOption(),
			},
		},
		{
			Name:        "ip",
			Description: "Look up location and ISP of an IPv4 address",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "ip",
					Description: "IPv4 address",
					Required:    true,
				},
				ephemeralOption(),
			},
		},
		{
			Name:        "whois",
			Description: "Look up domain registration data",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "domain",
					Description: "Domain name or URL",
					Required:    true,
				},
				ephemeralOption(),
			},
		},
		{
			Name:        "ping",
			Description: "Show latency and host status",
		},
		{
			Name:         "userinfo",
			Description:  "Show account and membership details",
			DMPermission: &dmPermissionDeny,
			Options:      []*discordgo.ApplicationCommandOption{memberOption("Member to inspect (default: you)", false)},
		},
		{
			Name:         "serverinfo",
			Description:  "Show details about this server",
			DMPermission: &dmPermissionDeny,
		},
		{
			Name:         "avatar",
			Description:  "Show a member's avatar in full size",
			DMPermission: &dmPermissionDeny,
			Options:      []*discordgo.ApplicationCommandOption{memberOption("Member (default: you)", false)},
		},
		{
			Name:                     "ticket_setup",
			Description:              "[Admin] Post the ticket launcher panel",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dmPermissionDeny,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Channel for the panel (default: this channel)",
					Required:     false,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
			},
		},
		{
			Name:                     "ticket_list",
			Description:              "[Admin] List open tickets",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dmPermissionDeny,
		},
		{
			Name:                     "report",
			Description:              "[Admin] Activity report",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dmPermissionDeny,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "day or week",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "day", Value: "day"},
						{Name: "week", Value: "week"},
					},
				},
			},
		},
		{
			Name:                     "nick",
			Description:              "[Admin] Change a member's nickname",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dmPermissionDeny,
			Options: []*discordgo.ApplicationCommandOption{
				memberOption("Member to rename", true),
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "New nickname",
					Required:    true,
					MaxLength:   32,
				},
			},
		},
		{
			Name:                     "kick",
			Description:              "[Admin] Kick a member",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dmPermissionDeny,
			Options:                  []*discordgo.ApplicationCommandOption{memberOption("Member to kick", true), reasonOption("Kick reason")},
		},
		{
			Name:                     "ban",
			Description:              "[Admin] Ban a member",
			DefaultMemberPermissions: &adminPermission,
			DMPermission:             &dmPermissionDeny,
			Options:                  []*discordgo.ApplicationCommandOption{memberOption("Member to ban", true), reasonOption("Ban reason")},
		},
		{
			Name:                     "delete",
			Description:              "[Admin] Bulk delete recent messages",
			DefaultMemberPermissions: &manageMessages,
			DMPermission:             &dmPermissionDeny,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "count",
					Description: "Number of messages (default 5)",
					Required:    false,
					MinValue:    &minDeleteCount,
					MaxValue:    maxDeleteCount,
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := commandDefinitions()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}

	for _, guild := range b.session.State.Guilds {
		if guild == nil {
			continue
		}
		guildID := guild.ID
		guildCmds, err := b.session.ApplicationCommands(appID, guildID)
		if err != nil {
			continue
		}
		for _, cmd := range guildCmds {
			if _, ok := desired[cmd.Name]; ok {
				continue
			}
			_ = b.session.ApplicationCommandDelete(appID, guildID, cmd.ID)
		}
	}
	b.logger.Info("commands registered")
	return nil
}
