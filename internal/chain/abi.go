package chain

const weatherOptionABI = `[
  {"type":"function","name":"requestPremiumQuote","stateMutability":"nonpayable",
   "inputs":[{"name":"p","type":"tuple","components":[
     {"name":"optionType","type":"uint8"},
     {"name":"latitude","type":"string"},
     {"name":"longitude","type":"string"},
     {"name":"startDate","type":"uint256"},
     {"name":"expiryDate","type":"uint256"},
     {"name":"strikeMM","type":"uint256"},
     {"name":"spreadMM","type":"uint256"},
     {"name":"notional","type":"uint256"}]}],
   "outputs":[{"name":"requestId","type":"bytes32"}]},
  {"type":"function","name":"createOptionWithQuote","stateMutability":"payable",
   "inputs":[{"name":"quoteRequestId","type":"bytes32"}],
   "outputs":[{"name":"tokenId","type":"uint256"}]},
  {"type":"function","name":"requestSettlement","stateMutability":"nonpayable",
   "inputs":[{"name":"_tokenId","type":"uint256"}],
   "outputs":[{"name":"requestId","type":"bytes32"}]},
  {"type":"function","name":"settle","stateMutability":"nonpayable",
   "inputs":[{"name":"_tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"claimPayout","stateMutability":"nonpayable",
   "inputs":[{"name":"_tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getOption","stateMutability":"view",
   "inputs":[{"name":"_tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"tokenId","type":"uint256"},
     {"name":"terms","type":"tuple","components":[
       {"name":"optionType","type":"uint8"},
       {"name":"latitude","type":"string"},
       {"name":"longitude","type":"string"},
       {"name":"startDate","type":"uint256"},
       {"name":"expiryDate","type":"uint256"},
       {"name":"strikeMM","type":"uint256"},
       {"name":"spreadMM","type":"uint256"},
       {"name":"notional","type":"uint256"},
       {"name":"premium","type":"uint256"}]},
     {"name":"state","type":"tuple","components":[
       {"name":"status","type":"uint8"},
       {"name":"buyer","type":"address"},
       {"name":"createdAt","type":"uint256"},
       {"name":"requestId","type":"bytes32"},
       {"name":"locationKey","type":"bytes32"},
       {"name":"actualRainfall","type":"uint256"},
       {"name":"finalPayout","type":"uint256"},
       {"name":"ownerAtSettlement","type":"address"}]}]}]},
  {"type":"function","name":"pendingPayouts","stateMutability":"view",
   "inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"protocolFeeBps","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"minPremium","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"minNotional","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"ownerOf","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

const premiumConsumerABI = `[
  {"type":"function","name":"isRequestFulfilled","stateMutability":"view",
   "inputs":[{"name":"requestId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"premiumByRequest","stateMutability":"view",
   "inputs":[{"name":"requestId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const vaultABI = `[
  {"type":"function","name":"deposit","stateMutability":"nonpayable",
   "inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],
   "outputs":[{"name":"shares","type":"uint256"}]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable",
   "inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],
   "outputs":[{"name":"shares","type":"uint256"}]},
  {"type":"function","name":"availableLiquidity","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"maxWithdraw","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getMetrics","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"tvl","type":"uint256"},
     {"name":"locked","type":"uint256"},
     {"name":"available","type":"uint256"},
     {"name":"utilization","type":"uint256"},
     {"name":"premiums","type":"uint256"},
     {"name":"payouts","type":"uint256"},
     {"name":"netPnL","type":"int256"}]}
]`

const wethABI = `[
  {"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"guy","type":"address"},{"name":"wad","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"","type":"address"},{"name":"","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`
