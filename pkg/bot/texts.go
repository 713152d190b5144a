package bot

const somethingWrongText = "Something went wrong — please try again later."

const helpText = `Hi! I'm a bot for 1-on-1 city-chain duels.

Available commands:
/play — find an opponent and play 1-on-1
/leave — leave the waiting queue
/surrender — concede your current duel
/top — top 50 by wins and best win streak
/myrank — your rank and win count
/profile — your profile: wins, rank and streaks
/country <name> — set the country shown in the top
/cancel_rematch — withdraw your rematch offer
/help — this message`
